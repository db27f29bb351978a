package lang

func init() {
	Register(&LanguageSpec{
		Language:       Elixir,
		FileExtensions: []string{".ex", ".exs"},
		// Elixir uses "call" for everything (homoiconic), def/defp/defmodule
		// included. There is no Elixir-specific classification: every call
		// node is extracted as a function definition, and since definition
		// kinds are matched first, the "call" entries in CallNodeTypes and
		// ImportNodeTypes never match.
		FunctionNodeTypes: []string{
			"call",
		},
		ClassNodeTypes:  []string{}, // defmodule is not reported as a class
		ModuleNodeTypes: []string{"source"},
		CallNodeTypes:   []string{"call", "dot"},
		ImportNodeTypes: []string{"call"},

	})
}
