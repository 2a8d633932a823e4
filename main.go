package main

import "github.com/vibast-solutions/ms-go-collections/cmd"

func main() {
	cmd.Execute()
}
