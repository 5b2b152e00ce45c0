package main

// GPNet needs convolutions and pooling, only available in the XLA backend.

import (
	_ "github.com/gomlx/gomlx/backends/xla"
)
