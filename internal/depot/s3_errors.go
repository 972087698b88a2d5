package depot

import (
	"github.com/aweris/gitbig/internal/errors"
	"github.com/aws/aws-sdk-go/aws/awserr"
)

func apiErrors(err awserr.RequestFailure) error {
	// https://docs.aws.amazon.com/AmazonS3/latest/API/ErrorResponses.html#ErrorCodeList
	switch err.StatusCode() {
	case 400:
		if err.Code() == "InvalidBucketName" {
			return errors.ErrInvalidResource.Wrap(err)
		}
		return errors.ErrStorageAPI.Wrap(err)
	case 401:
		return errors.ErrUnauthorized.Wrap(err)
	case 403:
		return errors.ErrForbidden.Wrap(err)
	case 404:
		// HEAD responses carry no body, so the code is a bare "NotFound"
		return errors.ErrNotExists.Wrap(err)
	default:
		return errors.ErrStorageAPI.Wrap(err)
	}
}

// toSentinelErrors maps S3 request failures to the storage sentinels.
func toSentinelErrors(err error) error {
	if err == nil {
		return nil
	}
	var rerr awserr.RequestFailure
	if errors.As(err, &rerr) {
		return apiErrors(rerr)
	}
	return err
}
