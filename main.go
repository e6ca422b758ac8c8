package main

import "github.com/mihaisavezi/gigachat-proxy/cmd"

func main() {
	cmd.Execute()
}
