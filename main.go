package main

import "github.com/lwshakib/flux-video-downloader/cmd"

func main() {
	cmd.Execute()
}
