package lang

func init() {
	Register(&LanguageSpec{
		Language:       R,
		FileExtensions: []string{".r", ".R"},
		FunctionNodeTypes: []string{
			"function_definition",
		},
		ClassNodeTypes:  []string{},
		FieldNodeTypes:  []string{},
		ModuleNodeTypes: []string{"program"},
		CallNodeTypes:   []string{"call"},
		ImportNodeTypes: []string{"call"},
	})
}
