package fixture

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// DemoPassword is the credential every generated demo account accepts.
const DemoPassword = "demo1234"

// AdminEmail is the login of the generated administrator account.
const AdminEmail = "admin@demo.presence.local"

// GeneratorConfig sizes the generated dataset. Zero values fall back to
// the defaults used by the demo build.
type GeneratorConfig struct {
	SeedDate         time.Time
	Weeks            int
	StudentsPerLevel int
}

// Dataset is the complete generated state for demo mode and seeding.
type Dataset struct {
	SeedDate       time.Time
	Users          []models.User
	Levels         []models.Level
	Modules        []models.Module
	Teachers       []models.Teacher
	Assignments    []models.TeacherAssignment
	Students       []models.Student
	Enrollments    []models.Enrollment
	Slots          []models.ScheduleSlot
	Sessions       []models.Session
	Records        []models.AbsenceRecord
	Justifications []models.Justification
}

var firstNames = []string{
	"Amine", "Sara", "Youcef", "Lina", "Karim", "Meriem", "Omar", "Nesrine",
	"Rachid", "Amel", "Sofiane", "Imane", "Walid", "Yasmine", "Bilal", "Rania",
	"Mehdi", "Salma", "Tarek", "Nour", "Adel", "Kenza", "Fares", "Dalia",
}

var lastNames = []string{
	"Benali", "Haddad", "Cherif", "Bouzid", "Mansouri", "Belkacem", "Ziani", "Hamdani",
	"Saadi", "Guerfi", "Meziane", "Brahimi", "Kaci", "Touati", "Zerrouki", "Ferhat",
	"Amrani", "Bouaziz", "Khelifi", "Slimani", "Rahmani", "Daoudi", "Messaoudi", "Bendima",
}

var moduleCatalog = []struct {
	code  string
	title string
	level int
}{
	{"CS101", "Algorithmics", 0},
	{"MA102", "Linear Algebra", 0},
	{"EL103", "Digital Logic", 0},
	{"CS201", "Operating Systems", 1},
	{"CS202", "Databases", 1},
	{"NW203", "Computer Networks", 1},
}

var levelNames = []string{"L1-CS", "L2-CS"}

// teacherOfModule maps catalog index to teacher index; some teachers
// lecture two modules, like a real timetable.
var teacherOfModule = []int{0, 1, 2, 3, 0, 2}

var teacherNames = []string{"Nadia Benslimane", "Hakim Cherifi", "Souad Merabet", "Djamel Azzoug"}

var slotTimes = []struct{ start, end string }{
	{"08:30", "10:00"},
	{"10:15", "11:45"},
	{"13:00", "14:30"},
	{"15:00", "16:30"},
}

var justificationReasons = []string{
	"Medical certificate",
	"Family emergency",
	"Transport strike",
	"Medical appointment",
	"Administrative errand",
}

// Generate builds the dataset for the config's seed date. Everything
// except the bcrypt password hashes is a pure function of that date:
// any two runs on the same day produce the same roster, schedule,
// sessions and absences.
func Generate(cfg GeneratorConfig) *Dataset {
	if cfg.SeedDate.IsZero() {
		cfg.SeedDate = time.Now().UTC()
	}
	if cfg.Weeks <= 0 {
		cfg.Weeks = 5
	}
	if cfg.StudentsPerLevel <= 0 {
		cfg.StudentsPerLevel = 24
	}

	rng := NewLCG(DateSeed(cfg.SeedDate))
	ds := &Dataset{SeedDate: cfg.SeedDate}
	created := dayOf(cfg.SeedDate).AddDate(0, 0, -7*cfg.Weeks)

	hash := demoHash()

	admin := models.User{
		ID:           "usr-admin",
		Email:        AdminEmail,
		PasswordHash: hash,
		FullName:     "Amina Bouras",
		Role:         models.RoleAdmin,
		Active:       true,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	ds.Users = append(ds.Users, admin)

	for i, name := range levelNames {
		ds.Levels = append(ds.Levels, models.Level{
			ID:           fmt.Sprintf("lvl-%d", i+1),
			Name:         name,
			AcademicYear: academicYear(cfg.SeedDate),
			CreatedAt:    created,
			UpdatedAt:    created,
		})
	}

	for i, name := range teacherNames {
		teacherID := fmt.Sprintf("tea-%d", i+1)
		userID := fmt.Sprintf("usr-tea-%d", i+1)
		email := demoEmail(name, i+1)
		ds.Users = append(ds.Users, models.User{
			ID:           userID,
			Email:        email,
			PasswordHash: hash,
			FullName:     name,
			Role:         models.RoleTeacher,
			Active:       true,
			CreatedAt:    created,
			UpdatedAt:    created,
		})
		uid := userID
		ds.Teachers = append(ds.Teachers, models.Teacher{
			ID:        teacherID,
			FullName:  name,
			Email:     email,
			UserID:    &uid,
			Active:    true,
			CreatedAt: created,
			UpdatedAt: created,
		})
	}

	for i, entry := range moduleCatalog {
		ds.Modules = append(ds.Modules, models.Module{
			ID:          fmt.Sprintf("mod-%s", entry.code),
			Code:        entry.code,
			Title:       entry.title,
			LevelID:     ds.Levels[entry.level].ID,
			WeeklyHours: 3,
			Active:      true,
			CreatedAt:   created,
			UpdatedAt:   created,
		})
		ds.Assignments = append(ds.Assignments, models.TeacherAssignment{
			ID:        fmt.Sprintf("asg-%d", i+1),
			TeacherID: ds.Teachers[teacherOfModule[i]].ID,
			ModuleID:  fmt.Sprintf("mod-%s", entry.code),
			CreatedAt: created,
		})
	}

	ds.generateStudents(rng, cfg, hash, created)
	ds.generateSchedule(rng, created)
	ds.generateSessions(rng, cfg, admin.ID)
	ds.fillEnrollmentCounters()

	return ds
}

func (ds *Dataset) generateStudents(rng *LCG, cfg GeneratorConfig, hash string, created time.Time) {
	seq := 0
	for _, level := range ds.Levels {
		for i := 0; i < cfg.StudentsPerLevel; i++ {
			seq++
			name := firstNames[rng.IntN(len(firstNames))] + " " + lastNames[rng.IntN(len(lastNames))]
			studentID := fmt.Sprintf("stu-%03d", seq)
			userID := fmt.Sprintf("usr-stu-%03d", seq)
			email := demoEmail(name, seq)
			ds.Users = append(ds.Users, models.User{
				ID:           userID,
				Email:        email,
				PasswordHash: hash,
				FullName:     name,
				Role:         models.RoleStudent,
				Active:       true,
				CreatedAt:    created,
				UpdatedAt:    created,
			})
			uid := userID
			ds.Students = append(ds.Students, models.Student{
				ID:        studentID,
				Number:    fmt.Sprintf("%d%04d", ds.SeedDate.Year()%100, seq),
				FullName:  name,
				Email:     email,
				LevelID:   level.ID,
				UserID:    &uid,
				Active:    true,
				CreatedAt: created,
				UpdatedAt: created,
			})
			for _, module := range ds.Modules {
				if module.LevelID != level.ID {
					continue
				}
				ds.Enrollments = append(ds.Enrollments, models.Enrollment{
					ID:         fmt.Sprintf("enr-%03d-%s", seq, module.Code),
					StudentID:  studentID,
					ModuleID:   module.ID,
					EnrolledAt: created,
				})
			}
		}
	}
}

// generateSchedule gives every module two weekly slots. Even catalog
// positions land on Tuesday, odd ones on Thursday, which is what skews
// the emitted sessions toward those days.
func (ds *Dataset) generateSchedule(rng *LCG, created time.Time) {
	secondary := []time.Weekday{time.Monday, time.Wednesday, time.Saturday}
	for i, module := range ds.Modules {
		primaryDay := time.Tuesday
		if i%2 == 1 {
			primaryDay = time.Thursday
		}
		primarySlot := slotTimes[rng.IntN(len(slotTimes))]
		secondarySlot := slotTimes[rng.IntN(len(slotTimes))]
		room := fmt.Sprintf("B-%d%02d", 1+i%3, 1+rng.IntN(12))

		ds.Slots = append(ds.Slots, models.ScheduleSlot{
			ID:        fmt.Sprintf("slt-%d-a", i+1),
			LevelID:   module.LevelID,
			ModuleID:  module.ID,
			Day:       primaryDay,
			StartTime: primarySlot.start,
			EndTime:   primarySlot.end,
			Room:      &room,
			CreatedAt: created,
		})
		ds.Slots = append(ds.Slots, models.ScheduleSlot{
			ID:        fmt.Sprintf("slt-%d-b", i+1),
			LevelID:   module.LevelID,
			ModuleID:  module.ID,
			Day:       secondary[i%len(secondary)],
			StartTime: secondarySlot.start,
			EndTime:   secondarySlot.end,
			Room:      &room,
			CreatedAt: created,
		})
	}
}

// generateSessions walks the horizon day by day. Sundays never hold
// sessions; a slot on any other day emits with a probability tuned so
// the Tuesday/Thursday slots dominate. Every emitted session is closed
// with its absence records so presentCount + absences == expectedCount.
func (ds *Dataset) generateSessions(rng *LCG, cfg GeneratorConfig, adminID string) {
	seedDay := dayOf(ds.SeedDate)
	start := seedDay.AddDate(0, 0, -7*cfg.Weeks)

	cohorts := make(map[string][]int)
	for idx, enr := range ds.Enrollments {
		cohorts[enr.ModuleID] = append(cohorts[enr.ModuleID], idx)
	}

	for day := start; !day.After(seedDay); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Sunday {
			continue
		}
		for _, slot := range ds.Slots {
			if slot.Day != day.Weekday() {
				continue
			}
			probability := 0.45
			if slot.Day == time.Tuesday || slot.Day == time.Thursday {
				probability = 0.9
			}
			if rng.Float() >= probability {
				continue
			}
			ds.emitSession(rng, day, slot, cohorts[slot.ModuleID], adminID)
		}
	}
}

func (ds *Dataset) emitSession(rng *LCG, day time.Time, slot models.ScheduleSlot, cohort []int, adminID string) {
	module := ds.moduleByID(slot.ModuleID)
	if module == nil || len(cohort) == 0 {
		return
	}

	startAt := atClock(day, slot.StartTime)
	teacherID := ""
	for _, asg := range ds.Assignments {
		if asg.ModuleID == slot.ModuleID {
			teacherID = asg.TeacherID
			break
		}
	}

	expected := len(cohort)
	rate := rng.Between(0.08, 0.20)
	absentCount := int(rate*float64(expected) + 0.5)

	session := models.Session{
		ID:            fmt.Sprintf("ses-%04d", len(ds.Sessions)+1),
		ModuleID:      slot.ModuleID,
		TeacherID:     teacherID,
		ShareCode:     ds.shareCode(rng),
		Room:          slot.Room,
		StartAt:       startAt,
		EndsAt:        startAt.Add(90 * time.Minute),
		Status:        models.SessionEnded,
		ExpectedCount: expected,
		PresentCount:  expected - absentCount,
		CreatedAt:     startAt,
		UpdatedAt:     startAt.Add(90 * time.Minute),
	}
	ds.Sessions = append(ds.Sessions, session)

	absent := pickDistinct(rng, len(cohort), absentCount)
	isAbsent := make(map[int]bool, len(absent))
	for _, idx := range absent {
		isAbsent[idx] = true
	}

	for pos, enrIdx := range cohort {
		enrollment := ds.Enrollments[enrIdx]
		record := models.AbsenceRecord{
			ID:           fmt.Sprintf("rec-%05d", len(ds.Records)+1),
			SessionID:    session.ID,
			EnrollmentID: enrollment.ID,
			Status:       models.RecordPresent,
			CreatedAt:    startAt,
			UpdatedAt:    session.EndsAt,
		}
		if isAbsent[pos] {
			record.Status = models.RecordAbsent
			ds.Records = append(ds.Records, record)
			ds.maybeJustify(rng, record, enrollment.StudentID, day, adminID)
			continue
		}
		marked := startAt.Add(time.Duration(rng.IntN(15)) * time.Minute)
		record.MarkedAt = &marked
		ds.Records = append(ds.Records, record)
	}
}

// maybeJustify settles the absence type split: half the absences stay
// unjustified (some via a rejected justification), 30% end up approved
// and 20% remain pending review.
func (ds *Dataset) maybeJustify(rng *LCG, record models.AbsenceRecord, studentID string, day time.Time, adminID string) {
	roll := rng.Float()
	if roll < 0.35 {
		return
	}

	justification := models.Justification{
		ID:              fmt.Sprintf("jus-%04d", len(ds.Justifications)+1),
		AbsenceRecordID: record.ID,
		StudentID:       studentID,
		Reason:          justificationReasons[rng.IntN(len(justificationReasons))],
		Status:          models.JustificationPending,
		CreatedAt:       day.Add(20 * time.Hour),
		UpdatedAt:       day.Add(20 * time.Hour),
	}

	switch {
	case roll < 0.5:
		justification.Status = models.JustificationRejected
	case roll < 0.8:
		justification.Status = models.JustificationApproved
	default:
		justification.Status = models.JustificationPending
	}

	if justification.Status != models.JustificationPending {
		decided := day.AddDate(0, 0, 1).Add(9 * time.Hour)
		note := "Reviewed by administration"
		justification.DecidedBy = &adminID
		justification.DecidedAt = &decided
		justification.DecisionNote = &note
		justification.UpdatedAt = decided
	}

	ds.Justifications = append(ds.Justifications, justification)
}

func (ds *Dataset) fillEnrollmentCounters() {
	approvedByRecord := make(map[string]bool, len(ds.Justifications))
	for _, j := range ds.Justifications {
		if j.Status == models.JustificationApproved {
			approvedByRecord[j.AbsenceRecordID] = true
		}
	}
	counters := make(map[string]*models.Enrollment, len(ds.Enrollments))
	for i := range ds.Enrollments {
		counters[ds.Enrollments[i].ID] = &ds.Enrollments[i]
	}
	for _, record := range ds.Records {
		if record.Status != models.RecordAbsent {
			continue
		}
		enrollment, ok := counters[record.EnrollmentID]
		if !ok {
			continue
		}
		enrollment.Absences++
		if approvedByRecord[record.ID] {
			enrollment.AbsencesJustified++
		}
	}
}

func (ds *Dataset) moduleByID(id string) *models.Module {
	for i := range ds.Modules {
		if ds.Modules[i].ID == id {
			return &ds.Modules[i]
		}
	}
	return nil
}

func (ds *Dataset) shareCode(rng *LCG) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte(hexDigits[rng.IntN(len(hexDigits))])
	}
	return b.String()
}

// pickDistinct selects count distinct positions from [0, n).
func pickDistinct(rng *LCG, n, count int) []int {
	if count >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	out := make([]int, 0, count)
	for i := 0; i < count; i++ {
		j := rng.IntN(len(pool))
		out = append(out, pool[j])
		pool = append(pool[:j], pool[j+1:]...)
	}
	return out
}

func demoHash() string {
	hashed, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	return string(hashed)
}

func demoEmail(fullName string, seq int) string {
	parts := strings.Fields(strings.ToLower(fullName))
	local := strings.Join(parts, ".")
	return fmt.Sprintf("%s.%d@demo.presence.local", local, seq)
}

func academicYear(t time.Time) string {
	year := t.Year()
	if t.Month() < time.September {
		year--
	}
	return fmt.Sprintf("%d/%d", year, year+1)
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func atClock(day time.Time, clock string) time.Time {
	var h, m int
	_, _ = fmt.Sscanf(clock, "%d:%d", &h, &m)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}
