// The main package for the provider-harvester executable.
package main

import "github.com/JakeFAU/provider-harvester/cmd"

func main() {
	cmd.Execute()
}
