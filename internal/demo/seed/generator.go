package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email" json:"email"`
	Active     bool               `bson:"active" json:"active"`
	Country    string             `bson:"country" json:"country"`
	Age        int                `bson:"age" json:"age"`
	SignupDate time.Time          `bson:"signupDate" json:"signupDate"`
}

type Order struct {
	ID        primitive.ObjectID `bson:"_id" json:"_id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Status    string             `bson:"status" json:"status"`
	Total     float64            `bson:"total" json:"total"`
	Currency  string             `bson:"currency" json:"currency"`
	Items     int                `bson:"items" json:"items"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

type Dataset struct {
	Users  []User
	Orders []Order
}

var (
	firstNames    = []string{"Ada", "Grace", "Linus", "Barbara", "Ken", "Margaret", "Dennis", "Frances", "Alan", "Radia"}
	lastNames     = []string{"Lovelace", "Hopper", "Torvalds", "Liskov", "Thompson", "Hamilton", "Ritchie", "Allen", "Turing", "Perlman"}
	countries     = []string{"US", "DE", "GB", "IN", "JP", "BR"}
	orderStatuses = []string{"pending", "paid", "shipped", "delivered", "cancelled"}
)

// Generator produces users and orders from a seeded source. Two generators
// with the same seed and reference time yield identical datasets.
type Generator struct {
	rnd       *rand.Rand
	reference time.Time
}

func NewGenerator(seed int64, reference time.Time) *Generator {
	return &Generator{
		rnd:       rand.New(rand.NewSource(seed)),
		reference: reference.UTC(),
	}
}

func (g *Generator) Generate(users, orders int) (Dataset, error) {
	if users <= 0 {
		return Dataset{}, fmt.Errorf("at least one user is required")
	}
	if orders < 0 {
		return Dataset{}, fmt.Errorf("order count must be >= 0")
	}

	dataset := Dataset{
		Users:  make([]User, 0, users),
		Orders: make([]Order, 0, orders),
	}
	for i := 1; i <= users; i++ {
		dataset.Users = append(dataset.Users, g.nextUser(i))
	}
	for i := 0; i < orders; i++ {
		owner := dataset.Users[g.rnd.Intn(len(dataset.Users))]
		dataset.Orders = append(dataset.Orders, g.nextOrder(owner))
	}
	return dataset, nil
}

func (g *Generator) nextUser(sequence int) User {
	first := pickOne(g.rnd, firstNames)
	last := pickOne(g.rnd, lastNames)
	return User{
		ID:         g.objectID(),
		Name:       first + " " + last,
		Email:      fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), sequence),
		Active:     g.rnd.Intn(100) < 70,
		Country:    pickOne(g.rnd, countries),
		Age:        18 + g.rnd.Intn(60),
		SignupDate: g.reference.AddDate(0, 0, -g.rnd.Intn(730)),
	}
}

func (g *Generator) nextOrder(owner User) Order {
	items := 1 + g.rnd.Intn(5)
	createdAt := owner.SignupDate.Add(time.Duration(g.rnd.Int63n(int64(g.reference.Sub(owner.SignupDate)) + 1)))
	return Order{
		ID:        g.objectID(),
		UserID:    owner.ID,
		Status:    g.pickStatus(),
		Total:     round2(float64(items) * (5 + g.rnd.Float64()*95)),
		Currency:  "USD",
		Items:     items,
		CreatedAt: createdAt.Truncate(time.Millisecond),
	}
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 15:
		return orderStatuses[0]
	case p < 30:
		return orderStatuses[1]
	case p < 60:
		return orderStatuses[2]
	case p < 92:
		return orderStatuses[3]
	default:
		return orderStatuses[4]
	}
}

func (g *Generator) objectID() primitive.ObjectID {
	var id primitive.ObjectID
	_, _ = g.rnd.Read(id[:])
	return id
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
