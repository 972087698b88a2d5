package main

import "github.com/aweris/gitbig/cmd/git-big/cmd"

func main() {
	cmd.Execute()
}
