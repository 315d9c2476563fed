package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Lesson is a single playable unit of a course.
type Lesson struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration string `json:"duration,omitempty"`
	VideoRef string `json:"video_ref,omitempty"`
}

// Section groups lessons in curriculum order.
type Section struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Curriculum is the ordered outline of a course, stored as JSONB.
type Curriculum []Section

// Value marshals the curriculum for storage.
func (c Curriculum) Value() (driver.Value, error) {
	if c == nil {
		c = Curriculum{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal curriculum: %w", err)
	}
	return data, nil
}

// Scan unmarshals the stored curriculum.
func (c *Curriculum) Scan(value interface{}) error {
	*c = Curriculum{}
	return scanJSON(value, c, "Curriculum")
}

// WithoutVideos returns a copy of the outline with every video reference removed.
func (c Curriculum) WithoutVideos() Curriculum {
	out := make(Curriculum, len(c))
	for i, section := range c {
		lessons := make([]Lesson, len(section.Lessons))
		for j, lesson := range section.Lessons {
			lesson.VideoRef = ""
			lessons[j] = lesson
		}
		section.Lessons = lessons
		out[i] = section
	}
	return out
}

// LessonCount totals lessons across sections.
func (c Curriculum) LessonCount() int {
	n := 0
	for _, section := range c {
		n += len(section.Lessons)
	}
	return n
}

// Instructor is the denormalised author card shown on a course.
type Instructor struct {
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Value marshals the instructor for storage.
func (i Instructor) Value() (driver.Value, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("marshal instructor: %w", err)
	}
	return data, nil
}

// Scan unmarshals the stored instructor.
func (i *Instructor) Scan(value interface{}) error {
	*i = Instructor{}
	return scanJSON(value, i, "Instructor")
}

// Course is a purchasable catalog item.
type Course struct {
	ID          string     `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Price       float64    `db:"price" json:"price"`
	Currency    string     `db:"currency" json:"currency"`
	Category    string     `db:"category" json:"category"`
	Difficulty  string     `db:"difficulty" json:"difficulty"`
	Curriculum  Curriculum `db:"curriculum" json:"curriculum"`
	Instructor  Instructor `db:"instructor" json:"instructor"`
	Students    int        `db:"students" json:"students"`
	Rating      float64    `db:"rating" json:"rating"`
	Reviews     int        `db:"reviews" json:"reviews"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Public returns the catalog view of the course, safe for anonymous callers.
func (c Course) Public() Course {
	c.Curriculum = c.Curriculum.WithoutVideos()
	return c
}

// CourseFilter captures filtering criteria for the catalog.
type CourseFilter struct {
	Category   string
	Difficulty string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Course difficulties accepted by the catalog.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// CreateCourseRequest is the admin payload for a new catalog entry.
type CreateCourseRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	Price       float64    `json:"price" validate:"gte=0"`
	Currency    string     `json:"currency" validate:"omitempty,len=3"`
	Category    string     `json:"category" validate:"max=100"`
	Difficulty  string     `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Instructor  Instructor `json:"instructor"`
}

// UpdateCourseRequest merges the provided fields into an existing course.
type UpdateCourseRequest struct {
	Title       *string     `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string     `json:"description"`
	Price       *float64    `json:"price" validate:"omitempty,gte=0"`
	Currency    *string     `json:"currency" validate:"omitempty,len=3"`
	Category    *string     `json:"category" validate:"omitempty,max=100"`
	Difficulty  *string     `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Instructor  *Instructor `json:"instructor"`
}

// SectionRequest appends a section to a curriculum.
type SectionRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// LessonRequest appends a lesson to a section.
type LessonRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Duration string `json:"duration" validate:"max=20"`
	VideoRef string `json:"video_ref"`
}
