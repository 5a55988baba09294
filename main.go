package main

import "github.com/ValentinKolb/mcache/cmd"

func main() {
	cmd.Execute()
}
