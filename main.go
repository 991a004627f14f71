package main

import "github.com/ValentinKolb/ixmap/cmd"

func main() {
	cmd.Execute()
}
