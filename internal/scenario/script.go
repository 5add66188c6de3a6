package scenario

// Script is a shell script contributed to an instance's startup payload.
type Script struct {
	Name     string
	Contents string
}

// Recipe is a named configuration recipe shipped with a scenario.
type Recipe struct {
	Name     string
	Contents string
}
