// Package banner prints the gateway's startup banner using
// github.com/gookit/color, a dependency the teacher's go.mod declares but
// its four retrieved files never exercise.
package banner

import (
	"github.com/gookit/color"
)

const art = `
  __  __  ___ ___   _ _____ ___
 |  \/  |/ __/ __| /_\_   _| __|
 | |\/| | (_| (_ / _ \| | | _|
 |_|  |_|\___\___/_/ \_\_| |___|
`

// Print writes the startup banner plus the listener/boundary summary line
// to stdout, colorized with the teacher's gookit/color dependency (cyan
// art, bold version line, default-colored detail line).
func Print(version, listenAddr, boundaryAddr string) {
	color.Cyan.Println(art)
	color.Bold.Printf("mcgate %s\n", version)
	color.FgDefault.Printf("listening %s | boundary %s\n", listenAddr, boundaryAddr)
}
