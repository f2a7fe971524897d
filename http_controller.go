package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// AuthController maps HTTP requests onto the credential lifecycle
// service. It is routing glue only: form policy checks (password
// confirmation, new password differs from old) live here, every real
// invariant lives in the AccountService.
type AuthController struct {
	Service AccountService
	Auther  Authenticator
	Tokens  TokenService
	Repo    RepositoryManager
	Revoker *TokenRevoker
	Logger  Logger
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing AccountService in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in auth controller...")
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Revoker == nil {
		c.Revoker = NewTokenRevoker(c.Repo.Tokens()).WithLogger(c.Logger)
	}

	return c
}

func WithAccountService(service AccountService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Service = service
		return c
	}
}

func WithAuthenticator(auther Authenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithTokenService(tokens TokenService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Tokens = tokens
		return c
	}
}

func WithRepository(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithTokenRevoker(revoker *TokenRevoker) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Revoker = revoker
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// RegisterAuthRoutes wires the controller into a fiber app.
func RegisterAuthRoutes(app *fiber.App, controller *AuthController) {
	app.Post("/login", controller.Login)
	app.Post("/register", controller.Register)
	app.Get("/confirm", controller.ConfirmationShow)
	app.Get("/confirmRedirect", controller.ConfirmRedirect)
	app.Post("/confirm", controller.Confirm)
	app.Post("/forgotten", controller.ForgottenPassword)
	app.Get("/verifyEmail", controller.VerifyEmail)

	app.Post("/changePassword", controller.Authenticated, controller.ChangePassword)
	app.Post("/changeEmail", controller.Authenticated, controller.ChangeEmail)
	app.Post("/globalLogout", controller.Authenticated, controller.GlobalLogout)
	app.Post("/deleteAccount", controller.Authenticated, controller.DeleteAccount)
	app.Get("/user", controller.Authenticated, controller.CurrentUser)
	app.Get("/users", controller.Authenticated, controller.RequireRole(RoleAdmin), controller.ListUsers)
}

const principalKey = "auth_principal"

// Authenticated parses the bearer token and stores its claims for the
// downstream handler.
func (a *AuthController) Authenticated(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing bearer token",
		})
	}

	claims, err := a.Tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid token",
		})
	}

	c.Locals(principalKey, claims)
	return c.Next()
}

// RequireRole rejects principals whose token does not carry the role.
func (a *AuthController) RequireRole(role UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(principalKey).(*JWTClaims)
		if !ok || claims.UserRole != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient permissions",
			})
		}
		return c.Next()
	}
}

func (a *AuthController) principal(c *fiber.Ctx) (*JWTClaims, bool) {
	claims, ok := c.Locals(principalKey).(*JWTClaims)
	return claims, ok
}

// principalEmail resolves the authenticated account's email. Tokens
// carry the user id as subject, so the lookup goes through the store.
func (a *AuthController) principalEmail(c *fiber.Ctx) (string, error) {
	claims, ok := a.principal(c)
	if !ok {
		return "", ErrIdentityNotFound
	}

	user, err := a.Repo.Users().GetByID(c.Context(), claims.Subject)
	if err != nil {
		return "", ErrIdentityNotFound
	}

	return user.Email, nil
}

type loginPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (p loginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Username, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := loginPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	pair, err := a.Auther.Login(c.Context(), payload.Username, payload.Password)
	if err != nil {
		a.Logger.Debug("login rejected for %s: %v", payload.Username, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid credentials",
		})
	}

	return c.JSON(pair)
}

type registerPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Locale   string `json:"locale" form:"locale"`
}

func (p registerPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := registerPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	registered, err := a.Service.IsRegistered(c.Context(), payload.Email)
	if err != nil {
		return a.fail(c, err)
	}

	if registered {
		a.Logger.Warn("this user already exists: %s", payload.Email)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "an account with this email already exists",
		})
	}

	if err := a.Service.Register(c.Context(), RegisterAccountMessage{
		Email:    payload.Email,
		Password: payload.Password,
		Locale:   payload.Locale,
	}); err != nil {
		return a.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"confirmationMessage": "a confirmation email is on its way to " + payload.Email,
	})
}

func (a *AuthController) ConfirmationShow(c *fiber.Ctx) error {
	token := c.Query("token")

	user, err := a.Service.GetUserForToken(c.Context(), token)
	if err != nil {
		a.Logger.Debug("no user found that matches this token: %s", token)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "invalid or expired confirmation token",
		})
	}

	return c.JSON(fiber.Map{
		"confirmationToken": user.ConfirmationToken,
	})
}

func (a *AuthController) ConfirmRedirect(c *fiber.Ctx) error {
	return c.Redirect("/confirm?token=" + c.Query("token"))
}

type confirmPayload struct {
	Token           string `json:"token" form:"token"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
}

func (p confirmPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

func (a *AuthController) Confirm(c *fiber.Ctx) error {
	payload := confirmPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if payload.Password != payload.ConfirmPassword {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "passwords do not match",
		})
	}

	if err := a.Service.ConfirmRegistration(c.Context(), payload.Token, payload.Password); err != nil {
		return a.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"successMessage": "your password has been set, you can now sign in",
	})
}

type forgottenPayload struct {
	Email  string `json:"email" form:"email"`
	Locale string `json:"locale" form:"locale"`
}

func (p forgottenPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ForgottenPassword(c *fiber.Ctx) error {
	payload := forgottenPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	registered, err := a.Service.IsRegistered(c.Context(), payload.Email)
	if err != nil {
		return a.fail(c, err)
	}

	if !registered {
		a.Logger.Warn("this user is not registered: %s", payload.Email)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "this email is not registered",
		})
	}

	if err := a.Service.RequestPasswordReset(c.Context(), payload.Email, payload.Locale); err != nil {
		return a.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"confirmationMessage": "a password reset email is on its way to " + payload.Email,
	})
}

type changePasswordPayload struct {
	CurrentPassword string `json:"currentPassword" form:"currentPassword"`
	NewPassword     string `json:"newPassword" form:"newPassword"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
	Locale          string `json:"locale" form:"locale"`
}

func (p changePasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CurrentPassword, validation.Required),
		validation.Field(&p.NewPassword, validation.Required),
	)
}

func (a *AuthController) ChangePassword(c *fiber.Ctx) error {
	payload := changePasswordPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	// form policy, not a core invariant
	if payload.CurrentPassword == payload.NewPassword {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "new password must be different from the current one",
		})
	}

	if payload.NewPassword != payload.ConfirmPassword {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "passwords do not match",
		})
	}

	principal, err := a.principalEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}

	ok, err := a.Service.ChangePassword(c.Context(), principal, payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		return a.fail(c, err)
	}

	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "current password is incorrect",
		})
	}

	return c.JSON(fiber.Map{
		"successMessage": "your password has been changed",
	})
}

type changeEmailPayload struct {
	Password string `json:"password" form:"password"`
	Email    string `json:"email" form:"email"`
	Locale   string `json:"locale" form:"locale"`
}

func (p changeEmailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ChangeEmail(c *fiber.Ctx) error {
	payload := changeEmailPayload{}
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "unable to parse payload")
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	principal, err := a.principalEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}

	ok, err := a.Service.ChangeEmail(c.Context(), principal, payload.Password, payload.Email, payload.Locale)
	if err != nil {
		return a.fail(c, err)
	}

	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "could not change email",
		})
	}

	return c.JSON(fiber.Map{
		"successMessage": "a verification email is on its way to " + payload.Email,
	})
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	token := c.Query("token")

	user, err := a.Service.VerifyEmail(c.Context(), token)
	if err != nil {
		if IsTokenExpiredError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "verification token has expired",
			})
		}
		a.Logger.Debug("no user found for this token: %s", token)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "invalid verification token",
		})
	}

	return c.JSON(fiber.Map{
		"successMessage": "your email is now " + user.Email,
	})
}

func (a *AuthController) CurrentUser(c *fiber.Ctx) error {
	claims, ok := a.principal(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}

	user, err := a.Repo.Users().GetByID(c.Context(), claims.Subject)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user for principal not found"})
	}

	return c.JSON(user)
}

func (a *AuthController) ListUsers(c *fiber.Ctx) error {
	a.Logger.Debug("accessing list of all users")

	users, err := a.Repo.Users().List(c.Context())
	if err != nil {
		return a.fail(c, err)
	}

	return c.JSON(users)
}

// GlobalLogout revokes every token issued to the authenticated account,
// forcing re-authentication on all devices.
func (a *AuthController) GlobalLogout(c *fiber.Ctx) error {
	principal, err := a.principalEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}

	a.Logger.Debug("global logout for %s", principal)

	result := a.Revoker.RevokeTokens(c.Context(), principal)
	if !result.Supported {
		a.Logger.Warn("token store does not support enumeration, global logout for %s is a no-op", principal)
	}

	return c.JSON(fiber.Map{
		"confirmationMessage": "you have been signed out everywhere",
		"revokedTokens":       result.Revoked,
	})
}

func (a *AuthController) DeleteAccount(c *fiber.Ctx) error {
	principal, err := a.principalEmail(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid session"})
	}

	if err := a.Service.DeleteAccount(c.Context(), principal); err != nil {
		return a.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"confirmationMessage": "your account has been deleted",
	})
}

func (a *AuthController) fail(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryNotFound:
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": richErr.Message})
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": richErr.Message})
		case goerrors.CategoryConflict:
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": richErr.Message})
		}
	}

	a.Logger.Error("request failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
