package students

import "time"

type CreateStudentRequest struct {
	StudentNo string  `json:"student_no" binding:"required,student_no"`
	FirstName string  `json:"first_name" binding:"required"`
	LastName  string  `json:"last_name" binding:"required"`
	Program   *string `json:"program,omitempty"`
	Year      *string `json:"year,omitempty"`
	Section   *string `json:"section,omitempty"`
	ImagePath *string `json:"image_path,omitempty"`
	Email     *string `json:"email,omitempty" binding:"omitempty,email"`
}

type StudentResponse struct {
	StudentNo string    `json:"student_no"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Program   *string   `json:"program,omitempty"`
	Year      *string   `json:"year,omitempty"`
	Section   *string   `json:"section,omitempty"`
	ImagePath *string   `json:"image_path,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type StudentListResponse struct {
	Items      []StudentResponse `json:"items"`
	Total      int64             `json:"total"`
	NextOffset *int              `json:"next_offset,omitempty"`
}

func toResponse(s *Student) StudentResponse {
	return StudentResponse{
		StudentNo: s.StudentNo,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Program:   ptr(s.Program.String, s.Program.Valid),
		Year:      ptr(s.Year.String, s.Year.Valid),
		Section:   ptr(s.Section.String, s.Section.Valid),
		ImagePath: ptr(s.ImagePath.String, s.ImagePath.Valid),
		Email:     ptr(s.Email.String, s.Email.Valid),
		CreatedAt: s.CreatedAt,
	}
}

func ptr(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
