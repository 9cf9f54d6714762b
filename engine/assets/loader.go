package assets

import "github.com/spaghettifunk/kiln/engine/assets/loaders"

type Loader interface {
	Load(path string) (*loaders.Resource, error)
}
