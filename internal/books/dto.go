package books

import "time"

type CreateBookRequest struct {
	ISBN            *string `json:"isbn,omitempty" binding:"omitempty,isbn"`
	AccessionNumber *string `json:"accession_number,omitempty" binding:"omitempty,accession"`
	Title           string  `json:"title" binding:"required"`
	Author          *string `json:"author,omitempty"`
	Quantity        uint    `json:"quantity"`
	Thumbnail       *string `json:"thumbnail,omitempty"`
}

type UpdateBookRequest struct {
	Title     *string `json:"title,omitempty"`
	Author    *string `json:"author,omitempty"`
	Quantity  *uint   `json:"quantity,omitempty"`
	Thumbnail *string `json:"thumbnail,omitempty"`
}

type BookResponse struct {
	BookID          uint64    `json:"book_id"`
	ISBN            *string   `json:"isbn,omitempty"`
	AccessionNumber *string   `json:"accession_number,omitempty"`
	Title           string    `json:"title"`
	Author          *string   `json:"author,omitempty"`
	Quantity        uint      `json:"quantity"`
	Thumbnail       *string   `json:"thumbnail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type BookListResponse struct {
	Items      []BookResponse `json:"items"`
	Total      int64          `json:"total"`
	NextOffset *int           `json:"next_offset,omitempty"`
}

func toResponse(b *Book) BookResponse {
	r := BookResponse{
		BookID:    b.BookID,
		Title:     b.Title,
		Quantity:  b.Quantity,
		CreatedAt: b.CreatedAt,
	}
	if b.ISBN.Valid {
		v := b.ISBN.String
		r.ISBN = &v
	}
	if b.AccessionNumber.Valid {
		v := b.AccessionNumber.String
		r.AccessionNumber = &v
	}
	if b.Author.Valid {
		v := b.Author.String
		r.Author = &v
	}
	if b.Thumbnail.Valid {
		v := b.Thumbnail.String
		r.Thumbnail = &v
	}
	return r
}
