package main

import "github.com/digiclo/apiserver/cmd"

func main() {
	cmd.Execute()
}
