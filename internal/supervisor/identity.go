// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package supervisor

import "github.com/nu-is/imgserve/internal/log"

// IdentitySwitcher drops the current process's privileges to match an
// authenticated user before a Supervisor starts serving that user's
// jobs. The actual OS identity switch lives behind this interface; a
// deployment that needs it plugs a setuid-equivalent in.
type IdentitySwitcher interface {
	SwitchTo(identity string) error
}

// NoopIdentitySwitcher logs the requested identity without changing
// anything, the default for environments that don't run as a
// privileged process; launcher.New uses it when no switcher is given.
type NoopIdentitySwitcher struct {
	Logger *log.Helper
}

// SwitchTo logs identity and returns nil.
func (n NoopIdentitySwitcher) SwitchTo(identity string) error {
	if n.Logger != nil {
		n.Logger.Infof("identity switch to %q is a no-op in this deployment", identity)
	}
	return nil
}
