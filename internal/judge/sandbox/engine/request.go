package engine

import (
	"ojcore/internal/judge/sandbox/security"
	"ojcore/internal/judge/sandbox/spec"
)

type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
