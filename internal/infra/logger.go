package infra

import "go.uber.org/zap"

// NewLogger returns a JSON production logger, or a console logger with debug
// output when development is set.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
