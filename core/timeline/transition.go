package timeline

import (
	"encoding/json"
	"fmt"
)

// Transition 片段进入时的转场方式
type Transition string

const (
	TransitionNone     Transition = "none"
	TransitionFade     Transition = "fade"
	TransitionDissolve Transition = "dissolve"
	TransitionWipe     Transition = "wipe"
	TransitionPush     Transition = "push"
)

// DefaultTransition 新片段的默认转场
const DefaultTransition = TransitionFade

var transitionDurations = map[Transition]float64{
	TransitionNone:     0,
	TransitionFade:     0.5,
	TransitionDissolve: 0.8,
	TransitionWipe:     0.6,
	TransitionPush:     0.7,
}

// Duration 转场时长（秒），未知类型为 0
func (t Transition) Duration() float64 {
	return transitionDurations[t]
}

func (t Transition) Valid() bool {
	_, ok := transitionDurations[t]
	return ok
}

func (t *Transition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = DefaultTransition
		return nil
	}
	if !Transition(s).Valid() {
		return fmt.Errorf("unknown transition %q", s)
	}
	*t = Transition(s)
	return nil
}
