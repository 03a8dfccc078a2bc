package idptest

// User is a principal the test IdP will assert.
type User struct {
	ID         string
	Email      string
	Name       string
	Department string
}

// demoUsers seeds every new IdP. Tests reference these by ID.
func demoUsers() map[string]*User {
	return map[string]*User{
		"alice": {
			ID:         "alice",
			Email:      "alice@example.com",
			Name:       "Alice Johnson",
			Department: "Engineering",
		},
		"bob": {
			ID:         "bob",
			Email:      "bob@example.com",
			Name:       "Bob Smith",
			Department: "Marketing",
		},
	}
}
