package simulator

import (
	"math/rand"
	"time"

	"wisefido-drowsiness/internal/models"
)

var (
	lastNames  = []string{"Dupont", "Martin", "Bernard", "Durand", "Leroy"}
	firstNames = []string{"Jean", "Marie", "Pierre", "Sophie", "Luc"}

	birthRangeStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	birthRangeEnd   = time.Date(2000, 12, 31, 0, 0, 0, 0, time.UTC)
)

// RandomDriver 生成一个合成驾驶员身份（每次合成运行一个）
func RandomDriver(seed int64) models.Driver {
	rng := rand.New(rand.NewSource(seed))

	firstName := firstNames[rng.Intn(len(firstNames))]
	days := int(birthRangeEnd.Sub(birthRangeStart).Hours() / 24)
	birth := birthRangeStart.AddDate(0, 0, rng.Intn(days+1))

	return models.Driver{
		LastName:  lastNames[rng.Intn(len(lastNames))],
		FirstName: &firstName,
		BirthDate: &birth,
	}
}
