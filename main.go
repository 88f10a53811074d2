package main

import "ytdl-worker/cmd"

func main() {
	cmd.Execute()
}
