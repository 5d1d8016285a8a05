// Command cm drives processing campaigns through their lifecycle.
package main

import "github.com/lsst-dm/cm-tools-sub000/internal/cli"

func main() {
	cli.Main()
}
