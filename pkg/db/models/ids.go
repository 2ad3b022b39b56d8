package models

import "github.com/google/uuid"

// ensureID assigns a v4 id when the caller did not. IDs are generated in the
// application so sqlite-backed tests and postgres behave the same way.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
