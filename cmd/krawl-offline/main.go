package main

import "go-krawl-offline/cmd/krawl-offline/cmd"

func main() {
	cmd.Execute()
}
