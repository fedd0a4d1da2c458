package main

import (
	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/muse/musecli"
)

func main() {
	xmain.Main(musecli.Run)
}
