// Command clusterctl is the computational client: it submits problems to the
// coordinator and fetches their solutions.
//
//	clusterctl solve --type SUM --data '[1,2,3,4,5]'
//	clusterctl solution --wait 1
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "clusterctl:", err)
		os.Exit(1)
	}
}
