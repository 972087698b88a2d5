package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PathBlobs returns the distinct blob ids recorded for path across every ref,
// in first seen order.
func (g *Git) PathBlobs(ctx context.Context, path string) ([]string, error) {
	out, err := g.Run(ctx, "rev-list", "--objects", "--all", "--", path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := strings.SplitN(string(line), " ", 2)
		if len(fields) != 2 || fields[1] != path {
			continue
		}
		if _, ok := seen[fields[0]]; ok {
			continue
		}
		seen[fields[0]] = struct{}{}
		ids = append(ids, fields[0])
	}
	return ids, nil
}

// ReadBlobs streams the content of every id through one cat-file process.
// Ids git does not have are skipped.
func (g *Git) ReadBlobs(ctx context.Context, ids []string, fn func(id string, data []byte) error) (err error) {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := g.command(ctx, "cat-file", "--batch")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start git cat-file: %w", err)
	}
	defer func() {
		if werr := cmd.Wait(); werr != nil && err == nil {
			err = &Error{Args: []string{"cat-file", "--batch"}, Msg: strings.TrimSpace(stderr.String()), Err: werr}
		}
	}()

	go func() {
		defer stdin.Close()
		for _, id := range ids {
			if _, err := io.WriteString(stdin, id+"\n"); err != nil {
				return
			}
		}
	}()

	r := bufio.NewReader(stdout)
	for range ids {
		header, err := r.ReadString('\n')
		if err != nil {
			cancel()
			return fmt.Errorf("failed to read cat-file header: %w", err)
		}
		fields := strings.Fields(header)
		if len(fields) == 2 && fields[1] == "missing" {
			continue
		}
		if len(fields) != 3 {
			cancel()
			return fmt.Errorf("unexpected cat-file header %q", header)
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			cancel()
			return fmt.Errorf("unexpected cat-file size %q", fields[2])
		}
		data := make([]byte, size+1)
		if _, err := io.ReadFull(r, data); err != nil {
			cancel()
			return fmt.Errorf("failed to read blob %s: %w", fields[0], err)
		}
		if err := fn(fields[0], data[:size]); err != nil {
			cancel()
			return err
		}
	}
	return nil
}
