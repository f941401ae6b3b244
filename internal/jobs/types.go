package jobs

type JobType string

const (
	JobSendActivationEmail    JobType = "send_activation_email"
	JobSendPasswordResetEmail JobType = "send_password_reset_email"
	JobSendEmailResetEmail    JobType = "send_email_reset_email"
)

func (t JobType) IsValid() bool {
	switch t {
	case JobSendActivationEmail, JobSendPasswordResetEmail, JobSendEmailResetEmail:
		return true
	default:
		return false
	}
}
