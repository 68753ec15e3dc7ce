package model

// Page はskip/take方式のページ指定。Numberは1始まり。
type Page struct {
	Number int
	Size   int
}

// NewPage はPageを生成する。1未満のページ番号は1に丸める。
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = 1
	}
	return Page{Number: number, Size: size}
}

// Offset はスキップする件数を返す。
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// PageResult はページング結果。Totalはフィルタ後の全件数。
type PageResult[T any] struct {
	Total int
	Page  int
	Size  int
	Data  []T
}
