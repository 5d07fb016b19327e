package main

import (
	"echonote/cmd"
)

func main() {
	cmd.Execute()
}
