package main

import (
	"melodycommons/cmd"
)

func main() {
	cmd.Execute()
}
