// Command engine-bench runs perft and searches against a UCI engine or a
// remote engine worker.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
