package pipelines

import "errors"

// Ошибки разрешения путей pipeline.
var (
	// ErrUnknownSite — площадка отсутствует в таблице путей установки.
	ErrUnknownSite = errors.New("unknown site")

	// ErrUnknownChannel — канал не production и не devel.
	ErrUnknownChannel = errors.New("unknown channel")
)
