package stageout

import "errors"

// ErrNoBasedir — корень выходных директорий не существует.
var ErrNoBasedir = errors.New("output basedir does not exist")
