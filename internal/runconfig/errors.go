package runconfig

import "errors"

// ErrMissingSampleCfg — у записи нет sample_cfg, pipeline запустить нельзя.
// Ошибка относится к одной записи: starter пропускает её и продолжает цикл.
var ErrMissingSampleCfg = errors.New("record has no sample_cfg")
