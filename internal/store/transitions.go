package store

import "qms/registrar-queue/internal/models"

// transitionMap lists the forward moves allowed out of each state. Terminal
// states have no entry.
var transitionMap = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusNowServing, models.StatusCompleted, models.StatusCancelled},
	models.StatusWaiting:    {models.StatusNowServing, models.StatusCompleted, models.StatusCancelled},
	models.StatusNowServing: {models.StatusCompleted},
}

func CanTransition(from, to models.Status) bool {
	for _, status := range transitionMap[from] {
		if status == to {
			return true
		}
	}
	return false
}

func IsTerminal(status models.Status) bool {
	return status == models.StatusCompleted || status == models.StatusCancelled
}
