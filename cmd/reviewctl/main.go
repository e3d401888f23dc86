// Command reviewctl administers a codereview deployment and runs analyses locally.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
