package safety

import "testing"

func FuzzParse(f *testing.F) {
	seeds := []string{
		"print('hi')",
		"import os, sys as s\nfrom . import x",
		"if x:\n    eval(y)\nelse: pass",
		"f'{a!r:>{width}}'",
		"s = '''\nunterminated",
		"match p:\n    case [a, *rest]:\n        pass",
		"x = (1,\n 2]",
		"\tif a:\n  b",
		"async def f():\n    await g()",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	a := NewAnalyzer(NewPolicy(DefaultRestricted, true), nil)
	f.Fuzz(func(t *testing.T, src string) {
		// must not panic on any input
		a.Analyze(src)
		Lint(src)
	})
}
