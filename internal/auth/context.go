package auth

import "context"

// Anonymous 是未经认证请求的主体名称。
const Anonymous = "anonymous"

type subjectKey struct{}

// WithSubject 把主体的副本放入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject.Clone())
}

// SubjectFromContext 取出 Guard 写入的主体。
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	if ctx == nil {
		return nil, false
	}
	subject, ok := ctx.Value(subjectKey{}).(*Subject)
	return subject, ok && subject != nil
}

// SubjectName 返回调用方名称，未认证时为 Anonymous。
func SubjectName(ctx context.Context) string {
	if subject, ok := SubjectFromContext(ctx); ok {
		return subject.Name
	}
	return Anonymous
}
