// Command zapgate drives an OWASP ZAP daemon through a full scan of one
// target and gates the exit code on per-severity alert thresholds.
//
// Usage:
//
//	zapgate -config zap-config.yml
//
// Exit code 0 means every phase completed and no severity exceeded its
// threshold. Anything else exits 1.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
