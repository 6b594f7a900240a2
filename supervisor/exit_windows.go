//go:build windows

package supervisor

import "os"

func exitStatus(ps *os.ProcessState) (*int, string) {
	if ps == nil {
		return nil, ""
	}
	code := ps.ExitCode()
	return &code, ""
}
