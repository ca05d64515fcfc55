package central

import "github.com/kakavi/central-backend/id"

// ID is the primary identifier type for all Central entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
