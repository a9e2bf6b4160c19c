// Package namegen names blocks after random word pairs.
package namegen

import (
	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

// Block returns a fresh block name scoped to the site, such as
// "prod-brave-owl". The bare word pair is returned for an empty site.
func Block(site string) string {
	name := string(gen.Get())
	if site == "" {
		return name
	}
	return site + "-" + name
}
