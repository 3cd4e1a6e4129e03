package store

import "github.com/Empredndedor/turnord-oficial/internal/models"

var transitionMap = map[string][]string{
	"claim":    {models.StatusWaiting},
	"complete": {models.StatusInService},
	"return":   {models.StatusWaiting, models.StatusInService},
	"cancel":   {models.StatusWaiting},
	"no_show":  {models.StatusWaiting, models.StatusInService},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
