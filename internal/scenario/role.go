package scenario

// Role is a named bundle of packages, recipes and scripts. A role is resolved
// once per scenario load and shared by every instance assigned to it.
type Role struct {
	Name     string
	Packages []Package
	Recipes  []*Recipe
	Scripts  []*Script
}

// NewRole validates the role name and returns the role.
func NewRole(name string, packages []Package, recipes []*Recipe, scripts []*Script) (*Role, error) {
	if err := ValidateName("role", name); err != nil {
		return nil, err
	}
	return &Role{
		Name:     name,
		Packages: packages,
		Recipes:  recipes,
		Scripts:  scripts,
	}, nil
}
