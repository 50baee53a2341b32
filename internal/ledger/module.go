package ledger

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module(
		"ledger",
		fx.Provide(New),
	)
}
