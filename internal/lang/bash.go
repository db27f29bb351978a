package lang

func init() {
	Register(&LanguageSpec{
		Language:          Bash,
		FileExtensions:    []string{".sh", ".bash"},
		FunctionNodeTypes: []string{"function_definition"},
		ClassNodeTypes:    []string{},
		ModuleNodeTypes:   []string{"program"},
		CallNodeTypes:     []string{"command"},
		ImportNodeTypes:   []string{"command"},

	})
}
