package main

import "github.com/trobanga/stagehand/cmd"

func main() {
	cmd.Execute()
}
