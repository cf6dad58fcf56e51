package config

import (
	_ "github.com/velop/velop/internal/preset/preact"
	_ "github.com/velop/velop/internal/preset/react"
	_ "github.com/velop/velop/internal/preset/vanilla"
)
