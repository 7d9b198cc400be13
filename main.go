package main

import "github.com/liftedinit/medchain/cmd/medchain"

func main() {
	medchain.Execute()
}
